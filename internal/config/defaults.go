package config

// DefaultConfigYAML contains the default configuration YAML content.
// It is written by `killswitch config init`.
const DefaultConfigYAML = `# killswitch configuration
#
# Values not specified here use the built-in defaults. Every key can be
# overridden with a KILLSWITCH_* environment variable, for example
# KILLSWITCH_THRESHOLDS_COUNT=2.

# Escalate once more than "count" exhaustion events happen within
# "time" seconds. count: 0 escalates on the first event.
thresholds:
  time: 1
  count: 0

# Diagnostics run, in order, before the target is killed.
actions:
  print_heap_histogram: false
  # 0 prints every class.
  heap_histogram_max_entries: 100
  print_memory_usage: true
  # strftime template, e.g. /var/dumps/heap-%Y%m%d-%H%M%S.hprof
  heap_dump_path: ""
  thread_dump_delay: 5s

# The monitored process. pid 0 targets killswitch itself.
target:
  pid: 0
  jcmd: jcmd
  # 0 disables the corresponding watch.
  memory_limit_mb: 0
  thread_limit: 0

watch:
  interval: 1s
  drop_dir: ""
  listen: 127.0.0.1:7070

api:
  cors_origins: []

incidents:
  db_path: .killswitch/incidents.db
  report_dir: .killswitch/incidents

log:
  level: info
  format: auto
`
