package webdriver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
)

// command describes one entry in the closed command surface the adapter
// exposes through Invoke. Path placeholders ({name}) are filled from the
// leading positional arguments; the remaining arguments are mapped, in
// order, onto the body parameter names.
type command struct {
	httpMethod string
	path       string
	bodyParams []string
}

// commands is the full method surface Invoke accepts. Anything else is
// ErrUnknownMethod.
var commands = map[string]command{
	"url":            {httpMethod: http.MethodPost, path: "/url", bodyParams: []string{"url"}},
	"back":           {httpMethod: http.MethodPost, path: "/back"},
	"forward":        {httpMethod: http.MethodPost, path: "/forward"},
	"refresh":        {httpMethod: http.MethodPost, path: "/refresh"},
	"click":          {httpMethod: http.MethodPost, path: "/element/{elementId}/click"},
	"clear":          {httpMethod: http.MethodPost, path: "/element/{elementId}/clear"},
	"setValue":       {httpMethod: http.MethodPost, path: "/element/{elementId}/value", bodyParams: []string{"value"}},
	"keys":           {httpMethod: http.MethodPost, path: "/keys", bodyParams: []string{"value"}},
	"tap":            {httpMethod: http.MethodPost, path: "/touch/click", bodyParams: []string{"element"}},
	"setOrientation": {httpMethod: http.MethodPost, path: "/orientation", bodyParams: []string{"orientation"}},
	"setContext":     {httpMethod: http.MethodPost, path: "/context", bodyParams: []string{"name"}},
	"hideKeyboard":   {httpMethod: http.MethodPost, path: "/appium/device/hide_keyboard"},
	"shake":          {httpMethod: http.MethodPost, path: "/appium/device/shake"},
	"lock":           {httpMethod: http.MethodPost, path: "/appium/device/lock", bodyParams: []string{"seconds"}},
	"launchApp":      {httpMethod: http.MethodPost, path: "/appium/app/launch"},
	"closeApp":       {httpMethod: http.MethodPost, path: "/appium/app/close"},
	"resetApp":       {httpMethod: http.MethodPost, path: "/appium/app/reset"},
	"background":     {httpMethod: http.MethodPost, path: "/appium/app/background", bodyParams: []string{"seconds"}},
	"findElement":    {httpMethod: http.MethodPost, path: "/element", bodyParams: []string{"using", "value"}},
}

// resolve binds positional args to a command, producing the concrete path
// and body for one invocation.
func (c command) resolve(args []any) (string, map[string]any, error) {
	path := c.path
	remaining := args

	for {
		open := strings.Index(path, "{")
		if open < 0 {
			break
		}
		closing := strings.Index(path[open:], "}")
		if closing < 0 {
			return "", nil, fmt.Errorf("malformed path template %q", c.path)
		}
		if len(remaining) == 0 {
			return "", nil, automation.NewError("arguments", fmt.Sprintf("missing path argument for %q", c.path))
		}
		path = path[:open] + fmt.Sprint(remaining[0]) + path[open+closing+1:]
		remaining = remaining[1:]
	}

	if len(remaining) > len(c.bodyParams) {
		return "", nil, automation.NewError("arguments",
			fmt.Sprintf("too many arguments: got %d extra", len(remaining)-len(c.bodyParams)))
	}

	var body map[string]any
	if len(remaining) > 0 {
		body = make(map[string]any, len(remaining))
		for i, arg := range remaining {
			body[c.bodyParams[i]] = arg
		}
	}
	return path, body, nil
}
