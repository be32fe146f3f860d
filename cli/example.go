package cli

const exampleConfig = `# funnel example config.
mode: serve # or replay
log:
  level: info
  format: console # or json

# Framer cuts pieces from connection byte stream. New framer is created for every connection.
framer:
  type: length-prefix # or delimiter, fixed
  prefix-size: 4
  little-endian: false
  max-payload: 16MB

# Handler processes pieces of one connection one at a time, in stream order.
handler:
  type: jsonlines # or echo, log, discard
  sink: ./pieces.jsonl.gz
  buffer-size: 64KB

server:
  endpoint: ":7777" # or unix:/var/run/funnel.sock
  max-connections: 1024
  shutdown-timeout: 10s
  stream:
    write-queue-max-size: 1MB
    close-timeout: 5s
  connection:
    max-buffered: 16MB
    batch: 64
    drain-timeout: 30s
    allow-trailing: false
  pool:
    workers: 16
    queue-size: 1024

replay:
  source: ./capture.bin.zst
  output: discard
  passes: 1
`
