package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	k8syaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kubeforge-io/kubeforge/internal/ir"
	"github.com/kubeforge-io/kubeforge/internal/logging"
)

// Provider applies platform stacks and pipelines as Kubernetes manifests
// through the dynamic client, so CRDs work without generated types.
type Provider struct {
	kubeconfig string

	mu     sync.Mutex
	client dynamic.Interface
	mapper meta.RESTMapper
}

func New(kubeconfig string) *Provider {
	return &Provider{kubeconfig: kubeconfig}
}

func (p *Provider) Name() string { return "kubernetes" }

func (p *Provider) ensureClient(d *ir.Descriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return nil
	}

	path := d.StringProperty("kubeconfig", p.kubeconfig)
	if path == "" {
		path = clientcmd.RecommendedHomeFile
	}

	cfg, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return fmt.Errorf("failed to load kubeconfig %s: %w", path, err)
	}

	client, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to create dynamic client: %w", err)
	}

	disco, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to create discovery client: %w", err)
	}

	p.client = client
	p.mapper = restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(disco))
	return nil
}

// Apply creates every manifest object the descriptor names, in document
// order. Objects that already exist are left alone.
func (p *Provider) Apply(ctx context.Context, d *ir.Descriptor, _ map[string]string) error {
	if err := p.ensureClient(d); err != nil {
		return err
	}

	objs, err := loadManifests(d)
	if err != nil {
		return err
	}
	if len(objs) == 0 {
		return fmt.Errorf("resource %s declares no manifests", d.ID)
	}

	for _, obj := range objs {
		ri, err := p.resourceFor(obj, d)
		if err != nil {
			return err
		}

		_, err = ri.Create(ctx, obj, metav1.CreateOptions{})
		if err != nil {
			if apierrors.IsAlreadyExists(err) {
				logging.Debug("object already exists",
					"resource", d.ID, "kind", obj.GetKind(), "name", obj.GetName())
				continue
			}
			return fmt.Errorf("failed to create %s/%s for %s: %w",
				obj.GetKind(), obj.GetName(), d.ID, err)
		}
		logging.Info("object created", "resource", d.ID, "kind", obj.GetKind(), "name", obj.GetName())
	}
	return nil
}

// Destroy deletes the manifest objects in reverse document order, ignoring
// objects that are already gone.
func (p *Provider) Destroy(ctx context.Context, d *ir.Descriptor) error {
	if err := p.ensureClient(d); err != nil {
		return err
	}

	objs, err := loadManifests(d)
	if err != nil {
		return err
	}

	for i := len(objs) - 1; i >= 0; i-- {
		obj := objs[i]
		ri, err := p.resourceFor(obj, d)
		if err != nil {
			return err
		}

		err = ri.Delete(ctx, obj.GetName(), metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete %s/%s for %s: %w",
				obj.GetKind(), obj.GetName(), d.ID, err)
		}
	}
	return nil
}

// resourceFor maps an object's GVK onto a namespaced or cluster-scoped
// dynamic resource interface.
func (p *Provider) resourceFor(obj *unstructured.Unstructured, d *ir.Descriptor) (dynamic.ResourceInterface, error) {
	gvk := obj.GroupVersionKind()
	mapping, err := p.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, fmt.Errorf("no mapping for %s: %w", gvk, err)
	}

	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		ns := obj.GetNamespace()
		if ns == "" {
			ns = d.StringProperty("namespace", "default")
			obj.SetNamespace(ns)
		}
		return p.client.Resource(mapping.Resource).Namespace(ns), nil
	}
	return p.client.Resource(mapping.Resource), nil
}

// loadManifests gathers manifest documents from inline properties and files.
func loadManifests(d *ir.Descriptor) ([]*unstructured.Unstructured, error) {
	docs := d.StringSliceProperty("manifests")
	for _, path := range d.StringSliceProperty("manifestFiles") {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest file %s: %w", path, err)
		}
		docs = append(docs, string(raw))
	}

	var objs []*unstructured.Unstructured
	for _, doc := range docs {
		parsed, err := splitDocuments(doc)
		if err != nil {
			return nil, fmt.Errorf("resource %s has an invalid manifest: %w", d.ID, err)
		}
		objs = append(objs, parsed...)
	}
	return objs, nil
}

// splitDocuments decodes a multi-document YAML stream into unstructured
// objects, skipping empty documents.
func splitDocuments(doc string) ([]*unstructured.Unstructured, error) {
	var objs []*unstructured.Unstructured

	decoder := k8syaml.NewYAMLOrJSONDecoder(strings.NewReader(doc), 4096)
	for {
		var body map[string]any
		if err := decoder.Decode(&body); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if len(body) == 0 {
			continue
		}

		obj := &unstructured.Unstructured{Object: body}
		if obj.GetKind() == "" || obj.GetAPIVersion() == "" {
			return nil, fmt.Errorf("manifest document missing kind or apiVersion")
		}
		objs = append(objs, obj)
	}
	return objs, nil
}
