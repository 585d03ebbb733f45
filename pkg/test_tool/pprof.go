package testtool

import (
	"net/http"
	_ "net/http/pprof" // 匯入後會自動註冊 pprof endpoint

	"realtime_chat_service/pkg/config"
	"realtime_chat_service/pkg/logger"

	"go.uber.org/zap"
)

// StartPprof serve pprof on localhost:6060 outside production
func StartPprof() {
	if config.IsProduction() {
		logger.Log.Info("production environment, pprof disabled")
		return
	}

	go func() {
		logger.Log.Info("starting pprof server on 127.0.0.1:6060")
		if err := http.ListenAndServe("127.0.0.1:6060", nil); err != nil {
			logger.Log.Warn("pprof server stopped", zap.Error(err))
		}
	}()
}
