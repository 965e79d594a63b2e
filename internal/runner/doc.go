// Package runner executes manifest entries against a CSVW processor.
//
// A run has a fixed shape:
//
//  1. Build the invocation URL: the URL-decoded processor endpoint followed
//     by the entry's action resolved against the suite base.
//  2. Fetch it. Any transport failure, including a non-2xx status, ends the
//     run with an Error verdict and no comparison is attempted.
//  3. Compare the fetched bytes with the entry's expected result using the
//     strategy its classification selects (see package compare).
//  4. Invert the match for negative entries.
//  5. Map the result to Pass or Fail, or to Error when the comparison
//     itself could not be carried out.
//
// The reflector endpoint skips the network and feeds the expected result
// back as the extracted artifact, which makes every positive entry pass.
// It is the harness's self-test.
//
// Runs are independent. Different entries may run concurrently on one
// Runner; nothing is retried.
package runner
