// Package engine runs the macforge provisioning pipeline.
//
// # Overview
//
// A pipeline is an ordered list of Modules. Each module describes itself
// with a ModuleSpec (ordinal, name, fatal, admin) and returns an Outcome
// when run:
//
//   - Success: the desired state was reached.
//   - Warning: the module completed with degraded results.
//   - Failure: the module did not complete.
//
// The Runner executes modules one at a time in ordinal order. After every
// Success or Warning it appends the module name to the completed set and
// saves the session immediately, so an interrupted run can resume from the
// first incomplete module. A Failure from a fatal module halts the pipeline
// and leaves the completed set as it was before that module started. A
// Failure from a non-fatal module is recorded as a warning and the module
// stays incomplete, so the next resume retries it.
//
// # Module contract
//
//	type Module interface {
//	    Spec() ModuleSpec
//	    Run(ctx context.Context, rc *RunContext) Outcome
//	}
//
// Modules receive everything they need through RunContext: the detected
// environment, the profile, the prompt gate, the progress reporter and an
// AdminEscalator that is torn down when the module returns.
//
// # Errors
//
// Modules classify their own failures with EngineError:
//
//   - ErrorClassFatal: the pipeline cannot safely continue
//   - ErrorClassWarning: a feature is degraded
//   - ErrorClassInfo: an expected absence that selects a branch
//
// A fatal EngineError may carry a remediation command, which the runner
// prints ahead of the generic "run <module>" and "--resume" hints.
//
// # Example
//
//	runner := engine.NewRunner(store,
//	    engine.WithHistory(history),
//	    engine.WithPrivilege(supervisor),
//	    engine.WithReporter(console.NewReporter(os.Stdout)),
//	)
//	outcome, err := runner.Run(ctx, modules.Default(deps), engine.RunOptions{Resume: true})
//	if err != nil {
//	    return err
//	}
//	os.Exit(outcome.ExitCode())
package engine
