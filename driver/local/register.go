package local

import (
	"context"

	"github.com/gobeaver/storagekit"
)

func init() {
	storagekit.RegisterDriver(storagekit.ProtocolFile, func(ctx context.Context, target *storagekit.Target) (storagekit.FileSystem, error) {
		return New(), nil
	})
}
