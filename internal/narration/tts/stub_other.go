//go:build !darwin && !windows

package tts

import "fmt"

func newSayEngine(config Config) (Engine, error) {
	return nil, fmt.Errorf("say engine only supports macOS")
}

func newSAPIEngine(config Config) (Engine, error) {
	return nil, fmt.Errorf("SAPI engine only supports Windows")
}
