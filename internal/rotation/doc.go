// Package rotation orchestrates credential rotation for the transport
// engine: one X25519 key pair and one short ID replace the previous set
// wholesale, everywhere, in a strictly ordered sequence.
//
// # Rotation Lifecycle
//
// 1. Backup: the live engine config is snapshotted, encrypted, into the
// backup directory. If the recovery point cannot be written, the rotation
// aborts before anything else runs.
//
// 2. Generate: a fresh credential set is requested from the keygen backend
// chain. The chain may fall back to a weaker backend; the result records
// which one produced the material.
//
// 3. Validate: the set is checked structurally and cryptographically
// before it may touch live state. Hard findings abort the rotation;
// warnings are collected onto the [Result].
//
// 4. Propagate: the engine config is rewritten atomically with the new
// private key, the new short ID list, and the current subscriber roster,
// then every subscriber's cached credentials and connection artifacts are
// regenerated over a bounded worker pool. A failure on one subscriber is
// recorded in Result.PartialFailures and does not stop the others.
//
// 5. Apply: exactly one engine restart is requested through procctl, since
// the engine only reads its config at process start.
//
// 6. Verify: liveness is polled under a grace period. If the engine never
// confirms, Result.ApplyFailed is set and [ApplyFailedMessage] becomes the
// operator-facing headline. Nothing is rolled back automatically; the
// backup from step 1 is retained and named on the rotation event.
//
// # Concurrency Model
//
//   - One rotation at a time: a concurrent [Coordinator.Rotate] or
//     [Coordinator.Reconcile] returns [ErrRotationInFlight] immediately
//     instead of queueing.
//   - Per-subscriber propagation inside a rotation fans out over a bounded
//     worker pool so a thousand subscribers do not mean a thousand
//     goroutines hitting the filesystem at once.
//
// # Recovery
//
// [Coordinator.Reconcile] re-runs propagate, apply, and verify against the
// current on-disk config without generating anything. It is idempotent and
// is the repair path after an interrupted rotation, a restored backup, or
// any subscriber change.
package rotation
