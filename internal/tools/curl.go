package tools

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/shlex"
)

// curlRequest is the request described by a curl command line.
type curlRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	HasBody bool
}

// parseCurl reads the URL, method, headers and body from a curl command.
// Flags it does not understand are ignored. A body without an explicit
// method implies POST.
func parseCurl(command string) (curlRequest, error) {
	command = strings.ReplaceAll(command, "\\\n", " ")
	args, err := shlex.Split(command)
	if err != nil {
		return curlRequest{}, fmt.Errorf("parse curl command: %w", err)
	}
	if len(args) > 0 && args[0] == "curl" {
		args = args[1:]
	}

	request := curlRequest{Headers: map[string]string{}}
	next := func(i int) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("missing value for %s", args[i])
		}
		return args[i+1], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-X", "--request":
			value, err := next(i)
			if err != nil {
				return curlRequest{}, err
			}
			request.Method = strings.ToUpper(value)
			i++
		case "-H", "--header":
			value, err := next(i)
			if err != nil {
				return curlRequest{}, err
			}
			key, headerValue, found := strings.Cut(value, ":")
			if found && strings.TrimSpace(key) != "" {
				request.Headers[strings.TrimSpace(key)] = strings.TrimSpace(headerValue)
			}
			i++
		case "-d", "--data", "--data-raw", "--data-binary", "--json":
			value, err := next(i)
			if err != nil {
				return curlRequest{}, err
			}
			request.Body = value
			request.HasBody = true
			if arg == "--json" {
				request.Headers["Content-Type"] = "application/json"
			}
			i++
		case "-A", "--user-agent":
			value, err := next(i)
			if err != nil {
				return curlRequest{}, err
			}
			request.Headers["User-Agent"] = value
			i++
		case "--url":
			value, err := next(i)
			if err != nil {
				return curlRequest{}, err
			}
			request.URL = value
			i++
		default:
			if request.URL == "" && (strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://")) {
				request.URL = arg
			}
		}
	}

	if request.URL == "" {
		return curlRequest{}, errors.New("curl command has no http(s) URL")
	}
	if request.Method == "" {
		request.Method = http.MethodGet
		if request.HasBody {
			request.Method = http.MethodPost
		}
	}
	return request, nil
}
