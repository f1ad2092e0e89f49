package agent

import (
	"bytes"
	"fmt"
	"text/template"
)

// Vhost and pool configs are rendered from embedded templates so the
// agent binary has no filesystem dependency beyond the target dirs.

const nginxVhostTemplate = `server {
    listen 80;
    listen [::]:80;
    server_name {{.Domain}} www.{{.Domain}};

    root {{.PublicDir}};
    index index.php index.html;

    access_log /var/log/nginx/{{.Domain}}.access.log;
    error_log /var/log/nginx/{{.Domain}}.error.log;

    location /.well-known/acme-challenge/ {
        root {{.PublicDir}};
    }
{{if .PHP}}
    location / {
        try_files $uri $uri/ /index.php?$query_string;
    }

    location ~ \.php$ {
        include snippets/fastcgi-php.conf;
        fastcgi_pass unix:{{.SocketPath}};
    }
{{else}}
    location / {
        try_files $uri $uri/ =404;
    }
{{end}}
    location ~ /\.(?!well-known) {
        deny all;
    }
}
`

const phpPoolTemplate = `[{{.Username}}]
user = {{.Username}}
group = {{.Username}}
listen = {{.SocketPath}}
listen.owner = www-data
listen.group = www-data
listen.mode = 0660

pm = ondemand
pm.max_children = 10
pm.process_idle_timeout = 30s
pm.max_requests = 500

php_admin_value[open_basedir] = {{.SiteRoot}}:{{.SharedBasePath}}:/tmp
php_admin_value[disable_functions] = exec,passthru,shell_exec,system,proc_open,popen
php_admin_value[error_log] = {{.SiteRoot}}/logs/php_errors.log
php_admin_flag[log_errors] = on
php_admin_value[upload_tmp_dir] = {{.SiteRoot}}/tmp
php_admin_value[session.save_path] = {{.SiteRoot}}/tmp
`

const tlsServerTemplate = `
server {
    listen 443 ssl http2;
    listen [::]:443 ssl http2;
    server_name {{.Domain}} www.{{.Domain}};

    root {{.PublicDir}};
    index index.php index.html;

    ssl_certificate {{.CertPath}};
    ssl_certificate_key {{.KeyPath}};
    ssl_protocols TLSv1.2 TLSv1.3;
    ssl_prefer_server_ciphers off;

    access_log /var/log/nginx/{{.Domain}}.access.log;
    error_log /var/log/nginx/{{.Domain}}.error.log;
{{if .PHP}}
    location / {
        try_files $uri $uri/ /index.php?$query_string;
    }

    location ~ \.php$ {
        include snippets/fastcgi-php.conf;
        fastcgi_pass unix:{{.SocketPath}};
    }
{{else}}
    location / {
        try_files $uri $uri/ =404;
    }
{{end}}
    location ~ /\.(?!well-known) {
        deny all;
    }
}
`

type vhostModel struct {
	Domain         string
	PublicDir      string
	SiteRoot       string
	Username       string
	SocketPath     string
	SharedBasePath string
	CertPath       string
	KeyPath        string
	PHP            bool
}

func renderTemplate(name, text string, model vhostModel) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, model); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

func socketPath(username, phpVersion string) string {
	return fmt.Sprintf("/run/php/php%s-fpm-%s.sock", phpVersion, username)
}
