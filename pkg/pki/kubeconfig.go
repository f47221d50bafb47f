package pki

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/kubestrap/pkg/errdefs"
)

const clusterName = "kubestrap"

// Kubeconfig YAML document, with certificate material embedded so the file
// is self-contained and relocatable.
type kubeconfigDoc struct {
	APIVersion     string             `yaml:"apiVersion"`
	Kind           string             `yaml:"kind"`
	Clusters       []namedCluster     `yaml:"clusters"`
	Users          []namedUser        `yaml:"users"`
	Contexts       []namedContext     `yaml:"contexts"`
	CurrentContext string             `yaml:"current-context"`
}

type namedCluster struct {
	Name    string         `yaml:"name"`
	Cluster clusterEntry   `yaml:"cluster"`
}

type clusterEntry struct {
	Server                   string `yaml:"server"`
	CertificateAuthorityData string `yaml:"certificate-authority-data"`
}

type namedUser struct {
	Name string    `yaml:"name"`
	User userEntry `yaml:"user"`
}

type userEntry struct {
	ClientCertificateData string `yaml:"client-certificate-data"`
	ClientKeyData         string `yaml:"client-key-data"`
}

type namedContext struct {
	Name    string       `yaml:"name"`
	Context contextEntry `yaml:"context"`
}

type contextEntry struct {
	Cluster string `yaml:"cluster"`
	User    string `yaml:"user"`
}

// WriteKubeconfig renders a kubeconfig for the given issued client identity
// pointing at serverURL and writes it to path.
func (ca *CA) WriteKubeconfig(path, user, serverURL string, issued *Issued) error {
	root := ca.RootCertPEM()
	if root == nil {
		return errdefs.Wrap(errdefs.ErrCrypto, "CA not initialized")
	}

	b64 := base64.StdEncoding.EncodeToString
	doc := kubeconfigDoc{
		APIVersion: "v1",
		Kind:       "Config",
		Clusters: []namedCluster{{
			Name: clusterName,
			Cluster: clusterEntry{
				Server:                   serverURL,
				CertificateAuthorityData: b64(root),
			},
		}},
		Users: []namedUser{{
			Name: user,
			User: userEntry{
				ClientCertificateData: b64(issued.CertPEM),
				ClientKeyData:         b64(issued.KeyPEM),
			},
		}},
		Contexts: []namedContext{{
			Name: "default",
			Context: contextEntry{
				Cluster: clusterName,
				User:    user,
			},
		}},
		CurrentContext: "default",
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return errdefs.WrapErr(errdefs.ErrRender, err, "marshaling kubeconfig for %s", user)
	}
	return writeFile(path, data, 0o600)
}

const encryptionConfigTemplate = `kind: EncryptionConfiguration
apiVersion: apiserver.config.k8s.io/v1
resources:
  - resources:
      - secrets
    providers:
      - aescbc:
          keys:
            - name: key1
              secret: %s
      - identity: {}
`

// WriteEncryptionConfig generates a fresh AES key and writes the API
// server's encryption-at-rest configuration to path.
func WriteEncryptionConfig(path string) error {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return errdefs.WrapErr(errdefs.ErrCrypto, err, "generating encryption key")
	}

	content := fmt.Sprintf(encryptionConfigTemplate, base64.StdEncoding.EncodeToString(key))
	return writeFile(path, []byte(content), 0o600)
}
