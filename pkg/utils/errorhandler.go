package utils

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

// WrapError annotates err with the calling line. The original error stays
// reachable through errors.Is and errors.As.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		return errors.WithStack(err)
	}
	return errors.Wrap(err, fmt.Sprintf("%s:%d", filepath.Base(file), line))
}
