package tts

import (
	"fmt"
	"os"
	"runtime"
)

type EngineType string

const (
	EngineTypeMock   EngineType = "mock"
	EngineTypeESpeak EngineType = "espeak"
	EngineTypeSAPI   EngineType = "sapi" // Windows only
	EngineTypeSay    EngineType = "say"  // macOS only
	EngineTypeGoogle EngineType = "google"
	EngineTypeAuto   EngineType = "auto" // Automatically choose best for platform
)

func (e EngineType) String() string {
	return string(e)
}

// NewEngine creates a new TTS engine based on the provided config
func NewEngine(config Config) (Engine, error) {
	if config.Type == "" || config.Type == EngineTypeAuto.String() {
		config.Type = BestEngineForPlatform().String()
	}

	switch config.Type {
	case EngineTypeMock.String():
		return NewMockEngine(MockConfig{Echo: true}), nil

	case EngineTypeGoogle.String():
		return newGoogleEngine(config)

	case EngineTypeESpeak.String():
		return newESpeakEngine(config)

	case EngineTypeSAPI.String():
		if runtime.GOOS != "windows" {
			return nil, fmt.Errorf("SAPI engine only supports Windows")
		}
		return newSAPIEngine(config)

	case EngineTypeSay.String():
		if runtime.GOOS != "darwin" {
			return nil, fmt.Errorf("say engine only supports macOS")
		}
		return newSayEngine(config)

	default:
		return nil, fmt.Errorf("unsupported TTS engine type: %s", config.Type)
	}
}

// BestEngineForPlatform returns the recommended engine for the current platform
func BestEngineForPlatform() EngineType {
	if hasGoogleCredentials() {
		return EngineTypeGoogle
	}

	switch runtime.GOOS {
	case "windows":
		return EngineTypeSAPI
	case "darwin":
		return EngineTypeSay
	default:
		return EngineTypeESpeak // Cross-platform fallback
	}
}

// AvailableEngines returns engines available on the current platform
func AvailableEngines() []EngineType {
	engines := []EngineType{EngineTypeMock, EngineTypeESpeak}

	if hasGoogleCredentials() {
		engines = append(engines, EngineTypeGoogle)
	}

	switch runtime.GOOS {
	case "windows":
		engines = append(engines, EngineTypeSAPI)
	case "darwin":
		engines = append(engines, EngineTypeSay)
	}

	return engines
}

// hasGoogleCredentials checks if Google Cloud credentials are available
func hasGoogleCredentials() bool {
	_, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS")
	return ok
}
