package config

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/tokenfight/tokenfight-api/models"
)

// DefaultGenesisCapacity is the size of the genesis cohort when
// GENESIS_CAPACITY is not set. All 500 spots were claimed during launch.
const DefaultGenesisCapacity = 500

// Config holds the project config values
type Config struct {
	URL             string
	DatabaseName    string
	BaseURL         string
	Port            string
	GenesisCapacity int
}

// New sets up all config related services
func New() *Config {

	//setup zap logger and replace default logger
	logger := zap.NewExample()
	defer logger.Sync()
	_ = zap.ReplaceGlobals(logger)

	genesisCapacity := DefaultGenesisCapacity
	if v := os.Getenv("GENESIS_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			zap.S().Warnw("invalid GENESIS_CAPACITY, using default",
				"value", v,
				"default", DefaultGenesisCapacity,
			)
		} else {
			genesisCapacity = n
		}
	}

	return &Config{
		URL:             os.Getenv("DB_URI"),
		DatabaseName:    os.Getenv("DB_NAME"),
		BaseURL:         os.Getenv("BASE_URL"),
		Port:            os.Getenv("PORT"),
		GenesisCapacity: genesisCapacity,
	}

}

// ErrorStatus is a useful function that will log, write http headers and body for a
// give message, status code and err
func ErrorStatus(message string, httpStatusCode int, w http.ResponseWriter, err error) {
	zap.S().With(err).Error(message)
	w.WriteHeader(httpStatusCode)
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	b, _ := json.Marshal(models.ErrorMessageResponse{Response: models.MessageError{Message: message, Error: errText}})
	w.Write(b)
}
