package logsvc

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/user"
)

var report = rollbar.Log // mockable

// RollbarLogger writes every entry to a standard logger and reports it to Rollbar.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// prepare turns the logger arguments into Rollbar item arguments.
//
// Recognized args: error, *http.Request, map[string]interface{} (custom data), context.Context
// and user.User, which becomes the item's person. The person travels in the item's own context
// so concurrent reports never share it. Anything else is added to the custom data.
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	ctx := context.Background()
	var person *rollbar.Person
	extras := make(map[string]interface{})
	items := make([]interface{}, 0, len(args)+3)
	items = append(items, msg)

	for i, arg := range args {
		switch v := arg.(type) {
		case user.User:
			if person == nil && v.ID != "" {
				person = &rollbar.Person{Id: v.ID, Username: v.Username, Email: v.Email}
			}
		case context.Context:
			ctx = v
		case map[string]interface{}:
			for k, val := range v {
				extras[k] = val
			}
		case error, *http.Request:
			items = append(items, v)
		default:
			extras[fmt.Sprintf("arg%d", i)] = fmt.Sprintf("%+v", v)
		}
	}

	if person != nil {
		ctx = rollbar.NewPersonContext(ctx, person)
	}
	items = append(items, ctx)
	if len(extras) > 0 {
		items = append(items, extras)
	}
	return items
}

func (l RollbarLogger) print(msg string, args []interface{}) {
	l.std.Println(msg)
	for _, arg := range args {
		switch v := arg.(type) {
		case user.User:
			l.std.Printf("user: %s\n", v.Username)
		case context.Context, *http.Request:
		default:
			l.std.Printf("%+v\n", v)
		}
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	report(rollbar.DEBUG, l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	report(rollbar.INFO, l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	report(rollbar.WARN, l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	report(rollbar.ERR, l.prepare(msg, args)...)
	l.print(msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	report(rollbar.CRIT, l.prepare(msg, args)...)
	l.print(msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}
