// Package membership keeps joined channels in line with the channels the
// REST API reports for the current user.
//
// The Reconciler:
//   - Joins channels the API lists that are not yet joined
//   - Leaves channels it joined earlier once the API stops listing them
//   - Never leaves channels it did not join itself, including channels a
//     caller later joins through Reconciler.JoinChannel
//   - Re-runs on a fixed interval until stopped
package membership
