package log

import "go.uber.org/zap"

var Log *zap.SugaredLogger

func init() {
	// Library consumers and tests get a usable logger without calling
	// InitLogger; the CLI swaps in the configured one at startup.
	Log = zap.NewNop().Sugar()
}

func InitLogger(debug bool) {

	lvl := zap.InfoLevel
	if debug {
		lvl = zap.DebugLevel
	}
	level := zap.NewAtomicLevelAt(lvl)
	logger, err := zap.Config{
		Level:            level,
		Development:      true,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}.Build()

	if err != nil {
		panic(err)
	}
	Log = logger.Sugar()
}
