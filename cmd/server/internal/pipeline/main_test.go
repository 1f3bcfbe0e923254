package pipeline

import (
	"os"
	"testing"

	"github.com/famflix/voiceswap/pkg/logger"
)

func TestMain(m *testing.M) {
	if _, err := logger.Init(logger.Config{Level: "error", Environment: "test"}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
