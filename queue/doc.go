// Package queue owns named task queues: tasks are inserted in priority
// order (higher first, FIFO among ties), dispatched by a polling loop that
// bounds concurrent executions, retried on failure up to their retry budget
// and persisted as a whole-queue snapshot after every structural mutation.
//
// Execution is delegated through the core.TaskExecutor capability supplied
// at construction; the manager never holds a reference into the session
// manager's internals.
package queue
