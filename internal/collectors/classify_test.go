package collectors

import (
	"testing"

	"github.com/hellotrik/port-killer/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    models.ProcessType
	}{
		{"nginx", "nginx: master process /usr/sbin/nginx", models.ProcessTypeWebServer},
		{"httpd", "/usr/sbin/httpd -D FOREGROUND", models.ProcessTypeWebServer},
		{"Caddy", "", models.ProcessTypeWebServer},
		{"postgres", "/opt/homebrew/opt/postgresql@16/bin/postgres -D /var/db", models.ProcessTypeDatabase},
		{"redis-server", "redis-server *:6379", models.ProcessTypeDatabase},
		{"mysqld", "", models.ProcessTypeDatabase},
		{"java", "java -Xms1g org.elasticsearch.bootstrap.Elasticsearch", models.ProcessTypeDatabase},
		{"java", "java -jar app.jar", models.ProcessTypeDevelopment},
		{"node", "node /Users/dev/app/node_modules/.bin/vite", models.ProcessTypeDevelopment},
		{"Python", "Python -m http.server 8000", models.ProcessTypeDevelopment},
		{"python3.12", "python3.12 manage.py runserver", models.ProcessTypeDevelopment},
		{"ruby", "puma 6.4.0 (tcp://0.0.0.0:3000)", models.ProcessTypeDevelopment},
		{"sh", "sh -c npm run dev", models.ProcessTypeDevelopment},
		{"launchd", "/sbin/launchd", models.ProcessTypeSystem},
		{"ControlCe", "/System/Library/CoreServices/ControlCenter.app/Contents/MacOS/ControlCenter", models.ProcessTypeSystem},
		{"sshd", "", models.ProcessTypeSystem},
		{"cupsd", "/usr/sbin/cupsd -l", models.ProcessTypeSystem},
		{"mystery", "/opt/mystery/bin/mystery --serve", models.ProcessTypeOther},
		{"", "", models.ProcessTypeOther},
	}

	for _, tt := range tests {
		if got := Classify(tt.name, tt.command); got != tt.want {
			t.Errorf("Classify(%q, %q) = %q, want %q", tt.name, tt.command, got, tt.want)
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		if got := Classify("nginx", "/usr/sbin/nginx"); got != models.ProcessTypeWebServer {
			t.Fatalf("iteration %d: got %q", i, got)
		}
	}
}

func TestClassifyRuleOrderFirstMatchWins(t *testing.T) {
	// Matches both the database command hint and the development name.
	if got := Classify("java", "java -cp kafka.Kafka config/server.properties"); got != models.ProcessTypeDatabase {
		t.Fatalf("got %q, want database (earlier rule)", got)
	}
	// A web server binary under /usr/sbin must not fall through to system.
	if got := Classify("nginx", "/usr/sbin/nginx -g daemon off;"); got != models.ProcessTypeWebServer {
		t.Fatalf("got %q, want webServer", got)
	}
}
