package asyncio

import (
	"errors"
	"io/fs"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"not exist sentinel", fs.ErrNotExist, KindNotFound},
		{"permission sentinel", fs.ErrPermission, KindAccessDenied},
		{"exists sentinel", fs.ErrExist, KindAlreadyExists},
		{"enoent", syscall.ENOENT, KindNotFound},
		{"eacces", syscall.EACCES, KindAccessDenied},
		{"eisdir", syscall.EISDIR, KindIsADirectory},
		{"emfile", syscall.EMFILE, KindTooManyOpenFiles},
		{"enospc", syscall.ENOSPC, KindDiskFull},
		{"erofs", syscall.EROFS, KindReadOnly},
		{"enametoolong", syscall.ENAMETOOLONG, KindPathTooLong},
		{"eio", syscall.EIO, KindIO},
		{"cancelled", ErrCancelled, KindCancelled},
		{"opaque", errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	wrapped := wrapError("open", "/tmp/x", syscall.ENOSPC)
	if KindOf(wrapped) != KindDiskFull {
		t.Fatalf("KindOf = %s, want disk_full", KindOf(wrapped))
	}
	if !errors.Is(wrapped, syscall.ENOSPC) {
		t.Fatal("wrapped error must unwrap to the OS error")
	}
}
