package config

import "strings"

func (c *Config) normalize() error {
	for _, field := range []*string{
		&c.Paths.OutputRoot,
		&c.Paths.StagingDir,
		&c.Paths.LogDir,
		&c.Catalog.Path,
	} {
		value := strings.TrimSpace(*field)
		if value == "" {
			*field = value
			continue
		}
		expanded, err := expandPath(value)
		if err != nil {
			return err
		}
		*field = expanded
	}

	c.Output.Packing = strings.ToLower(strings.TrimSpace(c.Output.Packing))
	c.Output.Compression = strings.ToLower(strings.TrimSpace(c.Output.Compression))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))

	for _, stage := range []*StageConcurrency{
		&c.Cooking.Texture, &c.Cooking.Buffer, &c.Cooking.Material,
		&c.Cooking.Geometry, &c.Cooking.Scene,
	} {
		if stage.Workers <= 0 {
			stage.Workers = 1
		}
		if stage.QueueCapacity <= 0 {
			stage.QueueCapacity = defaultQueueCapacity
		}
	}
	if c.Cooking.ThreadPoolSize <= 0 {
		c.Cooking.ThreadPoolSize = 1
	}
	return nil
}
