package redis

const (
	// replaceSelectionScript atomically replaces the restricted app and site
	// sets and stamps the update time
	replaceSelectionScript = `
local apps_key = KEYS[1]    -- focusguard:prefs:apps
local sites_key = KEYS[2]   -- focusguard:prefs:sites
local meta_key = KEYS[3]    -- focusguard:prefs:meta

local updated_at = ARGV[1]
local app_count = tonumber(ARGV[2])

redis.call('DEL', apps_key, sites_key)

-- ARGV[3 .. 3+app_count-1] are apps, the rest are sites
for i = 3, 2 + app_count do
  redis.call('SADD', apps_key, ARGV[i])
end
for i = 3 + app_count, #ARGV do
  redis.call('SADD', sites_key, ARGV[i])
end

redis.call('HSET', meta_key, 'updated_at', updated_at)

return 'OK'
`

	// incrementAnalyticsScript atomically adds a delta to a day and to the
	// lifetime totals, creating the day entry if needed
	incrementAnalyticsScript = `
local daily_key = KEYS[1]      -- focusguard:analytics:daily:{day}
local lifetime_key = KEYS[2]   -- focusguard:analytics:lifetime
local index_key = KEYS[3]      -- focusguard:analytics:days

local day = ARGV[1]
local fields = {'focus_seconds', 'completed_sessions', 'natural_completions',
  'breaks_taken', 'override_attempts', 'overrides_granted'}

local exists = redis.call('EXISTS', daily_key)
if exists == 0 then
  redis.call('HSET', daily_key, 'day', day)
  redis.call('SADD', index_key, day)
end

for i, field in ipairs(fields) do
  local n = ARGV[i + 1]
  redis.call('HINCRBY', daily_key, field, n)
  if field ~= 'natural_completions' then
    redis.call('HINCRBY', lifetime_key, field, n)
  end
end

return 'OK'
`

	// replaceShieldScript atomically replaces the shield state read by host
	// agents
	replaceShieldScript = `
local state_key = KEYS[1]   -- focusguard:shield:state
local apps_key = KEYS[2]    -- focusguard:shield:apps
local sites_key = KEYS[3]   -- focusguard:shield:sites

local active = ARGV[1]
local updated_at = ARGV[2]
local app_count = tonumber(ARGV[3])

redis.call('DEL', apps_key, sites_key)
for i = 4, 3 + app_count do
  redis.call('SADD', apps_key, ARGV[i])
end
for i = 4 + app_count, #ARGV do
  redis.call('SADD', sites_key, ARGV[i])
end

redis.call('HSET', state_key, 'active', active, 'updated_at', updated_at)

return 'OK'
`
)
