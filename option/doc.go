// Package option gates which option an agent may pursue.
//
// A Gate holds named timed variables. Activating one deactivates every
// variable in its disable set and starts a countdown; Tick counts every
// variable down by one and a variable at zero is inactive.
//
// TurnTaking layers conversation rules on a gate: talk, wait and listen are
// mutually exclusive, finishing a turn enforces a pause, and a pause ends in
// talk or listen depending on whether anyone nearby is already talking.
//
//	gate := option.NewGate(option.WithLogger(logger))
//	turns := option.NewTurnTaking("Alice Smith", gate,
//		option.WithOthersTalking(func() bool { return false }))
//	next := turns.Next(option.Talk, "", false) // "talk"
//	gate.Tick()
package option
