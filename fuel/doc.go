// Package fuel bounds guest CPU consumption.
//
// wazero executes compiled code natively, so the sandbox cannot observe
// individual instructions at run time. Instead, Instrument rewrites the
// module at load time: it adds an imported charge function and injects a
// call to it at every function entry and loop header. A loop header is
// re-entered on every iteration, so a guest spinning in a tight loop pays
// on each pass even when it never calls the host.
//
// At run time each invocation carries a Meter holding the class fuel
// budget. The charge import drains the meter; when the budget hits zero
// the engine force-closes the instance with ExhaustedExitCode and reports
// resource exhaustion.
//
// Charges are an upper bound on work, not an exact instruction count:
// a nested loop pays for its body again at each enclosing level.
package fuel
