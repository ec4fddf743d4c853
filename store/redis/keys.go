package redis

// Redis key naming for durable data. All keys are prefixed with
// "durable:" to avoid collisions.

const keyPrefix = "durable:"

// invocationKey returns the key for an invocation entity:
// durable:invocation:{id}
func invocationKey(id string) string { return keyPrefix + "invocation:" + id }

// invocationIDsKey is the Set tracking all invocation IDs for
// enumeration.
const invocationIDsKey = keyPrefix + "invocation_ids"

// journalKey returns the Hash key for a journal, field = entry index:
// durable:journal:{invocationID}
func journalKey(invID string) string { return keyPrefix + "journal:" + invID }

// stateKey returns the Hash key for a service's durable state:
// durable:state:{service}
func stateKey(service string) string { return keyPrefix + "state:" + service }

// dueKey is the Sorted Set of invocations with a pending wake-up or
// scheduled invoke time, scored by due instant in Unix milliseconds.
const dueKey = keyPrefix + "due"
