/*
Package queue is the in-process background job queue that runs all
orchestration work: provisioning, SSL sweeps, coherency runs and
remediation jobs.

Jobs are single-attempt-synchronous internally; the queue owns retries.
Each job type has its own attempt count, backoff and timeout, and the
backoff between attempts is jittered so that mass failures do not retry
in lockstep. Once a job's attempts are exhausted the queue calls its
Exhausted hook, which is where terminal notification lives.
*/
package queue
