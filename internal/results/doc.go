// Package results persists verdicts in SQLite so reports can be built
// after the runs that produced them.
//
// Every verdict belongs to a run, identified by a UUIDv7 so runs sort by
// start time. Reports use the most recent verdict per test:
//
//	st, _ := results.Open("results.db")
//	run := st.NewRunID()
//	st.Write(ctx, results.FromVerdict(run, processorURL, verdict))
//	latest, _ := st.Latest(ctx, processorURL)
package results
