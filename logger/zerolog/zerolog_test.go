package zerolog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmware/vmware-go-indexer/logger"
)

func TestZeroLogLoggerWithConfig(t *testing.T) {
	config := logger.Configuration{
		EnableConsole:     true,
		ConsoleLevel:      logger.Debug,
		ConsoleJSONFormat: true,
		EnableFile:        true,
		FileLevel:         logger.Info,
		FileJSONFormat:    false,
		Filename:          filepath.Join(t.TempDir(), "indexer-zerolog.log"),
	}

	log := NewZerologLoggerWithConfig(config)

	contextLogger := log.WithFields(logger.Fields{"lane": "smart_contract_object_handler"})
	contextLogger.Debugf("Starting with rs zerolog")
	contextLogger.Infof("Committed %d records", 3)
}

func TestZeroLogLoggerFileOnly(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "indexer-zerolog.log")
	log := NewZerologLoggerWithConfig(logger.Configuration{
		EnableFile: true,
		FileLevel:  logger.Error,
		Filename:   filename,
	})

	contextLogger := log.WithFields(logger.Fields{"lane": "checkpoint_summary_handler"})
	contextLogger.Warnf("Skipping checkpoint %d", 3)
	contextLogger.Errorf("Halting lane at checkpoint %d", 4)

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Skipping checkpoint")
	assert.Contains(t, string(data), `"message":"Halting lane at checkpoint 4"`)
	assert.Contains(t, string(data), `"lane":"checkpoint_summary_handler"`)
}

func TestLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, level(logger.Debug))
	assert.Equal(t, zerolog.WarnLevel, level(logger.Warn))
	assert.Equal(t, zerolog.InfoLevel, level(""))
	assert.Equal(t, zerolog.InfoLevel, level("bogus"))
}
