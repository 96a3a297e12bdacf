package config

import "runtime"

const (
	defaultOutputRoot    = "~/.local/share/kiln/cooked"
	defaultStagingDir    = "~/.local/share/kiln/staging"
	defaultLogDir        = "~/.local/share/kiln/logs"
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
	defaultAlignment     = 256
	defaultPacking       = "aligned"
	defaultCompression   = "none"
	defaultQueueCapacity = 64
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	stage := StageConcurrency{Workers: workers, QueueCapacity: defaultQueueCapacity}
	return Config{
		Paths: Paths{
			OutputRoot: defaultOutputRoot,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
		},
		Cooking: Cooking{
			ThreadPoolSize: runtime.NumCPU(),
			Texture:        stage,
			Buffer:         StageConcurrency{Workers: 2, QueueCapacity: defaultQueueCapacity},
			Material:       StageConcurrency{Workers: 2, QueueCapacity: defaultQueueCapacity},
			Geometry:       stage,
			Scene:          StageConcurrency{Workers: 1, QueueCapacity: defaultQueueCapacity},
		},
		Output: Output{
			Alignment:   defaultAlignment,
			Packing:     defaultPacking,
			Compression: defaultCompression,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Catalog: Catalog{
			Enabled: true,
		},
	}
}
