// Package llm holds the small set of language-model types the runtime needs:
// a completion result with its token usage, and an explicitly owned ledger
// that aggregates usage per agent and decision site.
//
// The runtime never calls a model itself. Decision, summarization and
// option-choosing functions are supplied by the embedding application and
// report what they consumed through Completion.Usage.
//
// # Token Tracking
//
// A Ledger is constructed once per runtime. Each agent records through its
// own Account, which is injected wherever usage is recorded. There is no
// process-wide instance.
//
//	ledger := llm.NewLedger()
//	alice := ledger.For("Alice Smith")
//	alice.Record(llm.SlotConsolidation, completion)
//	fmt.Printf("Alice used %d tokens, everyone %d\n",
//		alice.Total().TotalTokens, ledger.Total().TotalTokens)
package llm
