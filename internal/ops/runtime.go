package ops

import (
	"context"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/pkg/sys"

	"tradecore/internal/core"
)

// StartProfiler starts continuous profiling when env names a pyroscope server.
// The returned stop is never nil.
func StartProfiler(ctx core.Context, env Env, tags map[string]string) (stop func(), err error) {
	if env.PyroscopeURL == "" {
		return func() {}, nil
	}
	ctx = core.Resolve(ctx).Named("pyroscope")
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: env.PyroscopeAppID,
		ServerAddress:   env.PyroscopeURL,
		Tags:            tags,
		Logger:          ctx.Log,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return func() {}, errors.Wrap(err, "start pyroscope").With("server", env.PyroscopeURL)
	}
	ctx.Log.Infof("profiling to %s as %s", env.PyroscopeURL, env.PyroscopeAppID)
	return func() {
		if err := profiler.Stop(); err != nil {
			ctx.Log.Warnf("stop profiler, err: %+v", err)
		}
	}, nil
}

// ShutdownContext is cancelled on SIGINT/SIGTERM or when cancel is called.
func ShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-sys.Shutdown():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
