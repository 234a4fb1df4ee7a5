package storagekit

import (
	"github.com/gobeaver/beaver-kit/config"
)

// Config holds the connection settings for every supported protocol. Values
// loaded from the environment act as defaults; settings passed to Open with
// WithConfig override them field by field.
type Config struct {
	// Google Cloud Storage
	GSProject string `env:"STORAGEKIT_GS_PROJECT,default:My First Project"`
	GSToken   string `env:"STORAGEKIT_GS_TOKEN"` // credentials file path or "anon"

	// SFTP
	SFTPHost        string `env:"STORAGEKIT_SFTP_HOST"`
	SFTPPort        int    `env:"STORAGEKIT_SFTP_PORT,default:22"`
	SFTPUsername    string `env:"STORAGEKIT_SFTP_USERNAME"`
	SFTPPassword    string `env:"STORAGEKIT_SFTP_PASSWORD"`
	SFTPKeyFilename string `env:"STORAGEKIT_SFTP_KEY_FILENAME"`
	SFTPNative      bool   `env:"STORAGEKIT_SFTP_NATIVE,default:false"`
	// known_hosts file; when empty the server's host key is not verified
	SFTPKnownHosts string `env:"STORAGEKIT_SFTP_KNOWN_HOSTS"`

	// S3. Empty credentials fall through to the AWS default chain, which
	// reads AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN.
	S3AccessKeyID     string `env:"STORAGEKIT_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"STORAGEKIT_S3_SECRET_ACCESS_KEY"`
	S3SessionToken    string `env:"STORAGEKIT_S3_SESSION_TOKEN"`
	S3Region          string `env:"STORAGEKIT_S3_REGION"`
	S3Endpoint        string `env:"STORAGEKIT_S3_ENDPOINT"`
	S3ForcePathStyle  bool   `env:"STORAGEKIT_S3_FORCE_PATH_STYLE,default:false"`

	// Local filesystem base path override
	FileMount string `env:"STORAGEKIT_FILE_MNT"`

	// Local mount point used when SFTP runs in mount mode
	SSHFSMountPoint string `env:"STORAGEKIT_SSHFS_MOUNT_POINT"`
}

// LoadConfig returns config loaded from environment
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Builder loads Config with a custom environment prefix
type Builder struct {
	prefix string
}

// WithPrefix creates a new Builder with the specified prefix
func WithPrefix(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// LoadConfig loads Config using the builder's prefix
func (b *Builder) LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge copies every non-zero field of override onto c.
func (c *Config) merge(override Config) {
	setString(&c.GSProject, override.GSProject)
	setString(&c.GSToken, override.GSToken)
	setString(&c.SFTPHost, override.SFTPHost)
	setString(&c.SFTPUsername, override.SFTPUsername)
	setString(&c.SFTPPassword, override.SFTPPassword)
	setString(&c.SFTPKeyFilename, override.SFTPKeyFilename)
	setString(&c.SFTPKnownHosts, override.SFTPKnownHosts)
	setString(&c.S3AccessKeyID, override.S3AccessKeyID)
	setString(&c.S3SecretAccessKey, override.S3SecretAccessKey)
	setString(&c.S3SessionToken, override.S3SessionToken)
	setString(&c.S3Region, override.S3Region)
	setString(&c.S3Endpoint, override.S3Endpoint)
	setString(&c.FileMount, override.FileMount)
	setString(&c.SSHFSMountPoint, override.SSHFSMountPoint)
	if override.SFTPPort != 0 {
		c.SFTPPort = override.SFTPPort
	}
	if override.SFTPNative {
		c.SFTPNative = true
	}
	if override.S3ForcePathStyle {
		c.S3ForcePathStyle = true
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
