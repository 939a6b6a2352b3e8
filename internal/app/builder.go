package app

import (
	"strings"

	"github.com/VatsalSy/fetchkit/internal/errors"
	"github.com/VatsalSy/fetchkit/internal/mirror"
	"github.com/VatsalSy/fetchkit/internal/queue"
	"github.com/VatsalSy/fetchkit/internal/transport/httpfetch"
	"github.com/VatsalSy/fetchkit/internal/transport/objectstore"
)

// buildItem turns a chosen mirror into a dispatchable work item, picking
// the handle shape the registered transports understand from the
// mirror's location scheme.
func buildItem(r mirror.Resource, m mirror.Mirror) (*queue.Item, error) {
	id := r.ID + "#" + m.ID
	switch {
	case strings.HasPrefix(m.Location, "s3://"):
		return queue.NewItem(id, 0, objectstore.Handle{Location: m.Location}), nil
	case strings.HasPrefix(m.Location, "http://"), strings.HasPrefix(m.Location, "https://"):
		return queue.NewItem(id, 0, httpfetch.Handle{URL: m.Location}), nil
	default:
		return nil, errors.New(errors.ErrorTypeConfiguration, "app.buildItem", m.Location, errUnsupportedScheme)
	}
}

var errUnsupportedScheme = schemeError("mirror location has no matching transport")

type schemeError string

func (e schemeError) Error() string { return string(e) }
