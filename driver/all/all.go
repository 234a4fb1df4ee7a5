// Package all registers every storagekit driver. Import it for its side
// effects:
//
//	import _ "github.com/gobeaver/storagekit/driver/all"
package all

import (
	_ "github.com/gobeaver/storagekit/driver/gcs"
	_ "github.com/gobeaver/storagekit/driver/local"
	_ "github.com/gobeaver/storagekit/driver/s3"
	_ "github.com/gobeaver/storagekit/driver/sftp"
)
