package debug

import (
	"fmt"
	"net/http"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
)

// StartPprofServer launches an HTTP server that responds with the stack
// traces of all running goroutines. Useful for finding anything stuck on the
// reactor loop. Blocks; callers run it in its own goroutine.
func StartPprofServer(logger *logrus.Logger, port int) {
	logger.Infof("opening debug port on %d", port)

	http.HandleFunc("/", func(resp http.ResponseWriter, req *http.Request) {
		pprof.Lookup("goroutine").WriteTo(resp, 1)
	})

	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), nil); err != nil {
		logger.Warnf("debug server exited: %v", err)
	}
}
