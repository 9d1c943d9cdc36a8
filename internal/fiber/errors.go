package fiber

import "github.com/cloudrt/cloudrt/internal/rterrors"

func errOutsideRender(what string) error {
	return rterrors.ValidationFailed(what + " called outside of a component render")
}

func errMissingProvider(path string) error {
	return rterrors.ValidationFailed("required context read at " + path + " has no enclosing Provider")
}
