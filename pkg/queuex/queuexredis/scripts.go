package queuexredis

import "github.com/redis/go-redis/v9"

// Ownership of a job lives in the per-queue sets and the lease keys; these
// scripts make every membership move atomic so two workers can never pop the
// same id. Job bodies are updated from Go after the move, following the
// jobKey(id) convention, which keeps the scripts free of JSON handling; the
// post-move write goes through saveIfMemberScript so it lands only while the
// job still sits in the set the move placed it in, never on top of a body a
// concurrent claimer has already rewritten. Dynamic lease keys mean the
// adapter targets a single Redis instance, not a cluster.

// claimScript pops the best waiting job and grants a lease.
// KEYS: paused, waiting, active. ARGV: leaseExpiresMs, leaseToken, leaseTTLMs, leasePrefix.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return false
end
local popped = redis.call('ZPOPMIN', KEYS[2])
if #popped == 0 then
    return false
end
local id = popped[1]
redis.call('ZADD', KEYS[3], ARGV[1], id)
redis.call('SET', ARGV[4] .. id, ARGV[2], 'PX', ARGV[3])
return id
`)

// completeScript moves an active job to the completed set, lease permitting.
// KEYS: active, completed. ARGV: id, leaseToken, finishedMs, leasePrefix.
// Returns 1 on success, -1 on lease mismatch, -2 when the job is not active.
var completeScript = redis.NewScript(`
local lease = redis.call('GET', ARGV[4] .. ARGV[1])
if not lease or lease ~= ARGV[2] then
    return -1
end
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
    return -2
end
redis.call('DEL', ARGV[4] .. ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// failScript records a failed attempt: into the delayed set when a retry is
// scheduled, into the failed set otherwise.
// KEYS: active, delayed, failed. ARGV: id, leaseToken, retryAtMs, finishedMs, leasePrefix.
// Returns 1 on success, -1 on lease mismatch, -2 when the job is not active.
var failScript = redis.NewScript(`
local lease = redis.call('GET', ARGV[5] .. ARGV[1])
if not lease or lease ~= ARGV[2] then
    return -1
end
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
    return -2
end
redis.call('DEL', ARGV[5] .. ARGV[1])
if tonumber(ARGV[3]) > 0 then
    redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
else
    redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
end
return 1
`)

// promoteScript moves due delayed jobs into the waiting set, scoring each by
// its recorded priority and a fresh sequence number.
// KEYS: delayed, waiting, seq, priorities. ARGV: nowMs.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
    local seq = redis.call('INCR', KEYS[3])
    local prio = tonumber(redis.call('HGET', KEYS[4], id) or '0')
    redis.call('ZADD', KEYS[2], seq - prio * 1e9, id)
    redis.call('ZREM', KEYS[1], id)
end
return ids
`)

// expireLeasesScript moves actives with expired leases to the stalled set
// and bumps the queue's stall counter.
// KEYS: active, stalled, stalls. ARGV: nowMs, leasePrefix.
var expireLeasesScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
    redis.call('ZADD', KEYS[2], ARGV[1], id)
    redis.call('DEL', ARGV[2] .. id)
    redis.call('INCR', KEYS[3])
end
return ids
`)

// moveScript relocates one id between two sets, guarded by membership so a
// concurrent pass cannot move the same job twice.
// KEYS: src, dest. ARGV: id, score.
var moveScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
    redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
    return 1
end
return 0
`)

// saveIfMemberScript writes a job body only while the id is still a member
// of the expected set. A job that has already moved on keeps the body its
// new owner wrote.
// KEYS: set, jobKey. ARGV: id, body.
var saveIfMemberScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
    redis.call('SET', KEYS[2], ARGV[2])
    return 1
end
return 0
`)
