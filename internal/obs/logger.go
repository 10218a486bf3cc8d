package obs

import "go.uber.org/zap"

// NewLogger builds the process-wide zap logger. Development mode gives
// console output for local runs.
func NewLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
