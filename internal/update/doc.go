// Package update keeps the mounter helper installed and current.
//
// This package handles:
//   - Resolving the latest package manifest from an ordered list of mirrors
//   - Downloading and extracting the package into a fresh working directory
//   - Carrying the user's settings file forward to the new installation
//   - Activating the new directory and sweeping stale ones
//
// Like the rest of the engine it knows nothing about presentation. Progress
// is reported as a percentage through a caller-supplied function and errors
// carry codes from internal/errors.
//
// Example usage:
//
//	resolver, err := update.NewResolver(mirrors)
//	if err != nil {
//	    // handle error
//	}
//	pipeline := update.NewPipeline(dirs, resolver, update.NewHTTPFetcher())
//	result, err := pipeline.Run(ctx, update.Options{}, func(percent int) {
//	    // render progress
//	})
package update
