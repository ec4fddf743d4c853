// Package driver embeds the durable runtime in-process. It wires the
// service registry, persistence, admission control, middleware, and the
// extension registry together, and runs invocations as journaled
// sessions over in-memory streams.
//
// The driver owns the runtime side of the wire protocol: it persists
// every journal entry a session emits, answers poll-input and state
// reads, fires durable timers, spawns child invocations, routes
// awakeable completions, and resumes suspended invocations when one of
// their blocked entries completes.
//
// # Quick Start
//
//	reg := service.NewRegistry()
//	svc := service.New("greeter")
//	service.Method(svc, "greet", func(ctx *session.Context, name string) (string, error) {
//	    return "hello " + name, nil
//	})
//	_ = reg.Register(svc)
//
//	d, err := driver.New(reg, driver.WithStore(memory.New()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := d.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Stop(ctx)
//
//	inv, err := d.Invoke(ctx, "greeter", "greet", []byte(`"world"`))
//
// Invoke blocks until the invocation reaches a terminal state, riding
// out suspensions: durable timers and awakeable completions resume the
// invocation automatically.
package driver
