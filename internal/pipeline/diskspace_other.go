//go:build !linux && !darwin

package pipeline

import "errors"

func getDiskSpace(string) (uint64, error) {
	return 0, errors.New("free space check not supported on this platform")
}
