package neo4j

const createHostConstraint = `CREATE CONSTRAINT host_ip IF NOT EXISTS FOR (h:Host) REQUIRE h.ip IS UNIQUE`

const sourceExistsQuery = `
MATCH (h:Host:Source {ip: $ip})
RETURN count(h) > 0 AS found`

// Threat levels only move up; a "known" sighting leaves them untouched.
const mergeFlowQuery = `
MERGE (s:Host {ip: $src})
  ON CREATE SET s.threat_level = $unknown, s.severity = 0
SET s:Source
SET s.threat_level = CASE WHEN $escalate AND $severity > s.severity THEN $level ELSE s.threat_level END,
    s.severity = CASE WHEN $escalate AND $severity > s.severity THEN $severity ELSE s.severity END
WITH s
MERGE (d:Host {ip: $dst})
  ON CREATE SET d.threat_level = $unknown, d.severity = 0
SET d:Destination
SET d.threat_level = CASE WHEN $escalate AND $severity > d.severity THEN $level ELSE d.threat_level END,
    d.severity = CASE WHEN $escalate AND $severity > d.severity THEN $severity ELSE d.severity END
WITH s, d
MERGE (s)-[r:SENDS_TO]->(d)
  ON CREATE SET r.packets = $packets, r.bytes = $bytes, r.description = $description, r.created_at = timestamp()`

const degreeQuery = `
MATCH (h:Host)
RETURN h.ip AS ip, toFloat(size([(h)-[:SENDS_TO]-() | 1])) AS score
ORDER BY score DESC, ip ASC
LIMIT $limit`

const dropProjectionQuery = `CALL gds.graph.drop($graph, false) YIELD graphName RETURN graphName`

const projectQuery = `CALL gds.graph.project($graph, 'Host', 'SENDS_TO') YIELD graphName RETURN graphName`

const pageRankQuery = `
CALL gds.pageRank.stream($graph)
YIELD nodeId, score
RETURN gds.util.asNode(nodeId).ip AS ip, score
ORDER BY score DESC, ip ASC
LIMIT $limit`

// Formatted with the hop bound; variable-length bounds cannot be parameters.
const shortestPathQuery = `
MATCH (a:Host {ip: $src}), (b:Host {ip: $dst})
MATCH p = shortestPath((a)-[:SENDS_TO*..%d]-(b))
RETURN length(p) AS hops`

const snapshotQuery = `
MATCH (s:Host)-[r:SENDS_TO]->(d:Host)
RETURN s.ip AS src, s.threat_level AS src_level,
       d.ip AS dst, d.threat_level AS dst_level, d:Source AS dst_source,
       r.packets AS packets, r.bytes AS bytes
ORDER BY r.created_at ASC`
