package gcs

import (
	"context"

	"cloud.google.com/go/storage"
	"github.com/gobeaver/storagekit"
	"google.golang.org/api/option"
)

// TokenAnonymous selects unauthenticated access to public buckets.
const TokenAnonymous = "anon"

func init() {
	storagekit.RegisterDriver(storagekit.ProtocolGS, func(ctx context.Context, target *storagekit.Target) (storagekit.FileSystem, error) {
		token := target.Config.GSToken
		return NewLazy(func(ctx context.Context) (*storage.Client, error) {
			return storage.NewClient(ctx, ClientOptions(token)...)
		}, WithProject(target.Config.GSProject)), nil
	})
}

// ClientOptions translates a token setting into client options. An empty
// token uses Application Default Credentials, "anon" disables
// authentication, anything else is a credentials file path.
func ClientOptions(token string) []option.ClientOption {
	switch token {
	case "":
		return nil
	case TokenAnonymous:
		return []option.ClientOption{option.WithoutAuthentication()}
	default:
		return []option.ClientOption{option.WithCredentialsFile(token)}
	}
}
