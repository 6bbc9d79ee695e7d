package domain

import (
	"fmt"

	appErrors "mounterctl/internal/errors"
)

func invalidStateError(state string) error {
	return appErrors.New(appErrors.CodeInvalidState, fmt.Sprintf("invalid launch state: %s", state), nil)
}

func invalidTransitionError(from, to LaunchState) error {
	return appErrors.New(appErrors.CodeInvalidTransition, fmt.Sprintf("cannot transition from %s to %s", from, to), nil)
}

func invalidMetadataError(reason string) error {
	return appErrors.New(appErrors.CodeMetadataInvalid, reason, nil)
}

func invalidManifestError(reason string) error {
	return appErrors.New(appErrors.CodeNoManifest, reason, nil)
}
