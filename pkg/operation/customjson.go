package operation

import (
	"io/ioutil"
	"strings"

	"github.com/Jeffail/gabs"

	deployerr "github.com/easy-deploy/opsworks-easy-deploy/pkg/errors"
)

// ParseCustomJSON reads the custom JSON given for a deployment. The
// source is either the JSON itself, or, if it doesn't start with `{`
// once trimmed, the path of a file holding it. An empty source is an
// empty object.
func ParseCustomJSON(source string) (*gabs.Container, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return gabs.ParseJSON([]byte("{}"))
	}

	data := []byte(trimmed)
	if !strings.HasPrefix(trimmed, "{") {
		bytes, err := ioutil.ReadFile(trimmed)
		if err != nil {
			return nil, deployerr.UserError("reading custom JSON file: %s", err)
		}
		data = bytes
	}

	doc, err := gabs.ParseJSON(data)
	if err != nil {
		return nil, deployerr.UserError("malformed custom JSON: %s", err)
	}
	if _, ok := doc.Data().(map[string]interface{}); !ok {
		return nil, deployerr.UserError("custom JSON must be an object")
	}
	return doc, nil
}
