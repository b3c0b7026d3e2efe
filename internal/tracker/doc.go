// Package tracker defines the tracked-site record and the collaborator
// interfaces shared by the freshness, change detection, and scan subsystems.
package tracker
