// Package lyfe runs LyfeAgent-style generative agents that stay responsive
// while their language model work happens in the background.
//
// # Core Concepts
//
//   - Runtime: owns the shared worker pool, the batching encoder, the token
//     tracker, telemetry providers and the optional snapshot store
//   - Agent: one simulated agent, advanced one tick at a time (package agent)
//   - Options: high-level behaviours such as talk or reflect, chosen by the
//     cognitive controller and executed by action selection
//   - Memory: observation buffer, working, recent and long-term tiers with
//     background consolidation (package memory)
//
// Every language model call runs as the slow half of a dual-speed task
// (package slowfast). A tick only polls for finished work, so driving many
// agents from one loop never stalls on a model.
//
// # Getting Started
//
//	rt, err := lyfe.New(ctx, encode,
//		lyfe.WithConfigFile("lyfe.yaml"),
//		lyfe.WithLogger(logger),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer rt.Close()
//
//	_, err = rt.NewAgent(ctx, lyfe.AgentConfig{
//		Name:    "Alice Smith",
//		Options: map[string]action.Executor{"talk": talk, "reflect": reflect},
//		Decide:  decide,
//	})
//
//	for {
//		actions, err := rt.Tick(ctx, observations)
//		...
//	}
//
// # Error Handling
//
// Runtime operations return *Error values carrying the operation and a kind
// (validation, execution, timeout, configuration, storage, internal). They
// wrap the sentinel errors of this package, so both forms work:
//
//	if errors.Is(err, lyfe.ErrDuplicateAgent) { ... }
//	if errors.Is(err, &lyfe.Error{Kind: lyfe.KindStorage}) { ... }
//
// # Observability
//
// Pass an OpenTelemetry MeterProvider and TracerProvider with
// WithMeterProvider and WithTracerProvider. Health combines pool, encoder
// and store checks into one status.
package lyfe
