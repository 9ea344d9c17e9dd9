package dispatch

import (
	"context"
	"runtime"
	"runtime/debug"

	"commandbot/pkg/stanza"
)

// VersionHandler answers jabber:iq:version with the software name, version
// and host platform.
type VersionHandler struct {
	Name    string
	Version string
}

// NewVersionHandler reports name with the main module's build version.
func NewVersionHandler(name string) *VersionHandler {
	version := "devel"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	return &VersionHandler{Name: name, Version: version}
}

func (h *VersionHandler) Supports(payload stanza.Extension) bool {
	_, ok := payload.(*stanza.Version)
	return ok
}

func (h *VersionHandler) Process(_ context.Context, iq *stanza.IQ) (stanza.Extension, error) {
	if iq.Type != stanza.IQGet {
		return nil, stanza.NewError(stanza.BadRequest, "version can only be queried")
	}
	return &stanza.Version{
		Name:    h.Name,
		Version: h.Version,
		OS:      runtime.GOOS + " " + runtime.GOARCH,
	}, nil
}
