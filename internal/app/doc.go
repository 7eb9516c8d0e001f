// Package app wires the runner together: settings, logging, the task
// library, the job lifecycle driver and the step executor. One App instance
// runs one job from one pipeline file.
package app
