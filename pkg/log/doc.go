/*
Package log provides structured logging for Lattice using zerolog.

Init(Config) sets the package-level Logger: JSON output in production,
a console writer in development. Call one of the With* constructors to
attach a scoped field for a subsystem or an entity ID before logging:

	log.WithComponent("scheduler").Info().Msg("dispatching task")
	log.WithWorkflowID(wf.ID).WithTaskID(task.ID).Error().Err(err).Msg("task failed")

WithComponent names a subsystem (e.g. "ledger", "peer"); WithPeerID,
WithProviderID, WithWorkflowID, WithTaskID, and WithComponentID each
tag one entity ID onto the child logger's fields.
*/
package log
