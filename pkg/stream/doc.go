// Package stream implements the extraction pipeline shared by all record
// sources: the per-source payload and pagination strategies, the response
// parser, and the driver that walks pages until exhaustion while tracking
// incremental replication cursors.
//
// Three record sources exist:
//
//   - flow_runs: POST filter requests, offset pagination, incremental by
//     expected_start_time. Each flow run scopes one task_runs child run.
//   - task_runs: POST filter requests bound to a single parent flow run;
//     no replication cursor of its own.
//   - events: POST filter on the first page, then GET requests following
//     the next_page resumption link with no body; incremental by occurred.
//
// Runs are single-threaded and synchronous: one page at a time, child
// runs driven per parent record in sequence. A transport failure aborts
// the run without advancing the cursor, so a retry resumes from the last
// confirmed bookmark.
package stream
