package sftp

import (
	"context"

	"github.com/gobeaver/storagekit"
)

func init() {
	storagekit.RegisterDriver(storagekit.ProtocolSFTP, func(ctx context.Context, target *storagekit.Target) (storagekit.FileSystem, error) {
		cfg := target.Config
		c := Config{
			Host:        cfg.SFTPHost,
			Port:        cfg.SFTPPort,
			Username:    cfg.SFTPUsername,
			Password:    cfg.SFTPPassword,
			KeyFilename: cfg.SFTPKeyFilename,
		}
		if cfg.SFTPKnownHosts != "" {
			c.KnownHostsFiles = []string{cfg.SFTPKnownHosts}
		}
		return New(ctx, c)
	})
}
