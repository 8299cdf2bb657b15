package payload

import (
	"os"

	"github.com/flashkit/flashkit/internal/ferr"
)

func openPlainFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ferr.Wrap("payload.openPlainFile", ferr.KindMissingLoader, err)
	}
	return f, nil
}

func fileSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, ferr.Wrap("payload.fileSize", ferr.KindIoFault, err)
	}
	return fi.Size(), nil
}
