package collectors

import (
	"strings"

	"github.com/hellotrik/port-killer/pkg/models"
)

// classifyRule matches a lowercased process name exactly or by prefix, or
// the lowercased command line by substring.
type classifyRule struct {
	processType models.ProcessType
	names       []string
	prefixes    []string
	inCommand   []string
}

// classifyRules is evaluated in order; the first matching rule wins.
// Databases come first so JVM-hosted stores are not filed as development,
// and system last so binaries under /usr/sbin keep their specific type.
var classifyRules = []classifyRule{
	{
		processType: models.ProcessTypeDatabase,
		names:       []string{"mysqld", "mariadbd", "mongod", "mongos", "memcached", "influxd", "etcd", "couchdb", "cockroach", "rethinkdb", "sqlservr", "dgraph", "surreal"},
		prefixes:    []string{"postgres", "postmaster", "mysql", "mongo", "redis", "clickhouse", "cassandra", "neo4j", "valkey", "keydb", "arangod", "minio"},
		inCommand:   []string{"elasticsearch", "opensearch", "cassandra", "neo4j", "kafka.kafka", "zookeeper"},
	},
	{
		processType: models.ProcessTypeWebServer,
		names:       []string{"httpd", "caddy", "traefik", "lighttpd", "haproxy", "envoy", "h2o", "openresty", "varnishd", "apache2"},
		prefixes:    []string{"nginx", "apache", "tomcat"},
		inCommand:   []string{"catalina", "org.apache.catalina"},
	},
	{
		processType: models.ProcessTypeDevelopment,
		names:       []string{"node", "deno", "bun", "java", "go", "dotnet", "cargo", "beam.smp", "erl", "elixir", "iex", "mix", "hugo", "jekyll", "vite", "esbuild", "webpack", "next-server", "gunicorn", "uvicorn", "puma", "unicorn", "rails", "flask", "air", "code", "code helper", "docker-proxy", "com.docker.backend", "vpnkit-bridge"},
		prefixes:    []string{"python", "ruby", "php", "perl", "node-", "java-", "rustc", "gopls", "nuxt"},
		inCommand:   []string{"node_modules", "vite", "webpack", "next dev", "manage.py runserver", "rails server", "flask run", "uvicorn", "npm run", "yarn ", "pnpm "},
	},
	{
		processType: models.ProcessTypeSystem,
		names:       []string{"launchd", "rapportd", "controlce", "controlcenter", "sharingd", "mdnsresponder", "remoted", "identityservicesd", "kdc", "netbiosd", "airplayxpchelper", "systemd", "systemd-resolve", "systemd-resolved", "sshd", "cupsd", "avahi-daemon", "rpcbind", "chronyd", "dnsmasq", "smbd", "nmbd", "ntpd", "exim4", "master", "init"},
		prefixes:    []string{"com.apple.", "systemd-"},
		inCommand:   []string{"/system/library/", "/usr/libexec/", "/usr/sbin/", "/sbin/"},
	},
}

// Classify maps a process name and command line onto a ProcessType using
// the fixed rule table. It is pure and deterministic.
func Classify(processName, command string) models.ProcessType {
	name := strings.ToLower(strings.TrimSpace(processName))
	cmd := strings.ToLower(command)

	for _, rule := range classifyRules {
		if rule.matches(name, cmd) {
			return rule.processType
		}
	}
	return models.ProcessTypeOther
}

func (r classifyRule) matches(name, cmd string) bool {
	for _, n := range r.names {
		if name == n {
			return true
		}
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	if cmd == "" {
		return false
	}
	for _, s := range r.inCommand {
		if strings.Contains(cmd, s) {
			return true
		}
	}
	return false
}
